// 版权所有 2024 GroundRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理文档存储的 Schema 迁移，支持 PostgreSQL、
MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌（migrations/<dialect>），
当前包含 documents 表及其 updated_at 索引。SQLite 迁移经由
golang-migrate 的 sqlite3 驱动（mattn/go-sqlite3，database/sql 名 "sqlite3"），
与运行时 internal/database 使用的纯 Go "sqlite" 驱动互不冲突。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close，长时间迁移在 ctx 结束时优雅停止。
  - CLI：命令行交互层，Run 按子命令分发并格式化输出。
  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL：从配置或连接 URL 创建迁移器。
*/
package migration
