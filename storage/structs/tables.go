// Package structs 数据库表结构
package structs

// Tables 需要迁移的表
var Tables = []any{
	&Sessions{},
	&Messages{},
}
