// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

/*
包 migration 提供生产环境 PostgreSQL 的 Schema 迁移管理，
基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌 SQL 迁移文件（挂起核对表与流水线运行表），
结合 golang-migrate 引擎实现版本化的 Schema 变更管理。支持正向迁移、
回滚、按步执行、跳转到指定版本以及强制设置版本号等操作。

sqlite 后端（开发/测试）不走 SQL 迁移：各存储在启动时通过 GORM
AutoMigrate 建表，ParseDatabaseType 对 sqlite 返回明确的说明性错误。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 等完整操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与数据库连接管理。
  - Config：迁移配置，包含数据库类型、连接 URL、迁移表名与语句超时。
  - MigrationStatus / MigrationInfo：迁移状态与摘要信息。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出，
    Run 按子命令名分发。

# 主要能力

  - 工厂函数：NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL 支持从不同配置源快速创建迁移器。
  - CLI 集成：Run/RunUp/RunDown/RunStatus 等面向终端的格式化操作。
  - 辅助工具：ParseDatabaseType 解析类型字符串，BuildDatabaseURL
    拼接 postgres 连接 URL。
*/
package migration
