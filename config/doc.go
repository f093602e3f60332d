// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

// Package config 提供 VisionFlow 的统一配置：默认值、YAML 文件与环境变量
// 三层加载（优先级递增），以及启动前的配置校验。
//
// 流水线运行期间读取的是启动时加载的不可变快照；不支持热重载。
package config
