// 版权所有 2024 GroundRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，支持健康检查、
连接数指标上报与事务重试。文档存储（internal/docstore）与迁移工具
共用这里打开的连接。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - StatsRecorder：健康检查时上报连接数，*metrics.Collector 满足该接口。

# 主要能力

  - 多驱动：Open 按 config.DatabaseConfig.Driver 选择 postgres、mysql
    或纯 Go 的 sqlite（glebarez），sqlite 固定单连接。
  - 健康检查：后台定时 PingContext 探活，Close 时退出。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 支持指数退避重试（死锁、序列化失败、sqlite 锁等场景）。
*/
package database
