// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

// Package verify 实现计划生成与执行之间的人工核对闸口。
//
// 当意图命中关键词谓词（或调用方强制核对）时，计划连同页面 schema
// 一起挂起等待人工确认。挂起期间计划步骤与元素取值均可编辑；确认后
// 编辑版计划交给执行器，来源标记保持不变、步骤重新连续编号；取消则
// 流水线以 plan_only 结束，执行器不会被调用。
//
// 状态机: draft → pending_verification → {confirmed, cancelled}
//
// 挂起记录默认存内存（MemoryStore）。配置数据库后由 DBStore 落库，
// TieredStore 组合两者，使暂停中的核对能跨进程重启恢复。
package verify
