// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 VisionFlow 服务端程序入口。

# 概述

cmd/visionflow 是截图自动化流水线的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 分布式追踪。

# 核心类型

  - Server           — 主服务器，装配流水线并管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 流水线装配：推理网关（重试+熔断）、视觉分析、计划生成、核对闸口、
    浏览器执行器，各阶段观测钩子桥接到 Prometheus 收集器
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    APIKeyAuth（X-API-Key）、JWTAuth（配置密钥后启用）
  - 降级启动：数据库或 Redis 不可用时退回内存存储，服务照常启动
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停后台任务 → 关 HTTP → 关 Metrics → 释放连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
