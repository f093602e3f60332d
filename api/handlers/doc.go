// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 VisionFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 VisionFlow 所有 HTTP 端点的请求处理逻辑，
包括流水线运行、确认门裁决、运行查询、健康检查以及统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由方法与路径参数由 Go 1.22+ 的 ServeMux 模式匹配承担。

# 核心类型

  - PipelineHandler  — 流水线运行、恢复与查询处理器
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（PingCheck 覆盖数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数，
    request_id 自动从请求上下文带回
  - 请求解码：JSON+base64 与 multipart 表单双模式，带请求体上限
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 暂停中的运行以 202 Accepted 返回，终态运行返回 200
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
