// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

// Package executor 在真实浏览器中执行已确认的动作计划。
//
// 执行器按步骤顺序驱动 Driver（生产环境是 chromedp 会话，测试里是假驱动）。
// 每一步先解析目标：元素 ID 通过页面 schema 变成可操作的定位（优先视觉检测
// 的坐标框，退而求其次按可见文本查询），navigate 的目标则是字面 URL。
// 单步失败不会中断计划，整体状态记为 partial；navigate/click 失败后页面
// 状态不可知，此时中止剩余步骤并返回 error。所有步骤都解析不到目标时
// 返回 no_elements，连浏览器会话都不会启动。
//
// 每次运行独占一个浏览器会话，任何退出路径都会关闭会话。结束时采集最终
// URL 和整页截图，截图交给 SnapshotStore 保存，结果里只保留引用。
package executor
