// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、推理、缓存、流水线、执行器、熔断器与数据库七个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 推理指标：网关调用总数与耗时，按 service（vision/reasoning）
    和 outcome（success/failure/rejected）分组。
  - 缓存指标：命中与未命中计数，按 cache_type（vision/plan）分组。
  - 流水线指标：运行总数按终态分组。
  - 执行器指标：步骤总数按 action/outcome 分组。
  - 熔断器指标：状态 Gauge（0=closed，1=open，2=half-open）。
  - 数据库指标：活跃/空闲连接数 Gauge。

各业务包不直接依赖本包，而是暴露回调钩子（cache.Group.OnEvent、
inference.Config.OnCall、executor.OnStep、pipeline.OnRun），由 cmd
在装配时接到 Collector 上。
*/
package metrics
