// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

// Package pipeline 把视觉分析、计划生成、人工确认和浏览器执行串成一次运行。
//
// Run 处理新请求：截图 → UISchema → ActionPlan → （可选）确认门 → 执行。
// 触发确认门时运行暂停，返回 verification_required 和 run_id，由 Resume
// 带着裁决继续：确认则执行（可能带人工编辑过的计划），取消则以 plan_only
// 结束且不会创建任何浏览器会话。
//
// 整次运行受聚合截止时间约束（context.WithTimeout）；超时后已经执行的
// 步骤以 partial 返回，浏览器资源照常回收。运行记录写入 RunStore 供状态
// 查询，真正驱动恢复流程的是确认门自己的存储。
package pipeline
