// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 VisionFlow 流水线的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 vision、planner、verify、
executor、pipeline、api 等上层模块提供统一的类型契约。所有跨包共享的
结构体、枚举和错误码均定义于此，以避免循环依赖。

# 核心类型

  - UIElement / UISchema: 视觉分析产出的界面元素与页面结构
  - ActionStep / ActionPlan: 有序可执行动作计划（含置信度与来源层级）
  - StepOutcome / ExecutionResult: 执行报告（逐步日志、最终快照引用）
  - Status: 运行状态枚举（success / partial / error / plan_only / no_elements 等）
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Service 标记

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithUserID
  - 错误工具链：IsRetryable / GetErrorCode / IsErrorCode / AsError
  - 计划校验：ActionPlan.Validate / Renumber（步骤序号连续性）
*/
package types
