// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration 管理 SQL 工作流存储的表结构，支持 PostgreSQL、MySQL
与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的迁移脚本以 embed.FS 内嵌在二进制中（migrations/<方言>/），
创建 workflows 表及其索引，列布局与 persistence.WorkflowRecord 一致。
SQLite 通过纯 Go 驱动打开，无需 cgo。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - Config：数据库类型、连接串、迁移表名、锁超时与日志。
  - CLI：终端输出层，Run 按子命令分发。
  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL / NewMigratorWithDB：构造入口。
*/
package migration
