// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

// Package vision 将界面截图转换为结构化的 UISchema。
//
// 本地质量门槛（分辨率、亮度区间、拉普拉斯方差锐度）在任何模型调用
// 之前执行，不合格的图像直接返回 POOR_IMAGE_QUALITY；OCR 文本作为
// 旁路信号注入提示词，OCR 失败不影响主流程；分析结果按图像内容哈希
// 缓存，推理层故障时降级为空 schema 而不是报错。
package vision
