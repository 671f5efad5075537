// 版权所有 2024 GroundRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 docstore 保存检索文档的全文，为引用偏移解析提供 getDocumentText。

Store 基于 GORM，表结构由 internal/migration 维护（documents 表）。
配置 WithCache 后按 "doc:text:<id>" 键走 Redis 读穿缓存，Upsert 与
Delete 会失效对应键；缓存故障只记录告警并回落到数据库。
未知文档返回 DOCUMENT_NOT_FOUND。
*/
package docstore
