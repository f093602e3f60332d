// Copyright (c) VisionFlow Authors.
// Licensed under the MIT License.

/*
包 database 负责打开关系型数据库连接并管理 GORM 连接池，
支持健康检查、统计上报与查询耗时插桩。

# 概述

Open 按配置驱动（postgres 生产、sqlite 开发/测试）构建 *gorm.DB；
PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理连接
生命周期、空闲回收与最大连接数限制。后台健康检查定时探活，
瞬时错误与持久故障按不同级别输出 zap 日志。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、GetStats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。

# 主要能力

  - 驱动选择：Open 支持 postgres 与 sqlite 两种后端，其余驱动报错。
  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制。
  - 健康检查：StartHealthCheck 启动后台探活循环，随 context 取消而退出，
    每轮通过 OnStats 钩子上报连接数（cmd 接到指标收集器）。
  - 查询插桩：Instrument 注册 GORM 回调，把每条语句的耗时交给观察函数。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 对死锁、序列化失败等瞬时错误做指数退避重试。
*/
package database
