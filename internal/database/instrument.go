package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// =============================================================================
// ⏱️ 查询耗时插桩
// =============================================================================

// startTimeKey 每条语句的开始时间，存放在 GORM 实例作用域里
const startTimeKey = "visionflow:query_start"

// Instrument 在 db 上注册 GORM 回调，把每条语句的操作名与耗时
// 交给 observe。操作名取 create/query/update/delete/row/raw 之一。
// cmd 在装配时把 observe 接到指标收集器的 RecordDBQuery 上。
func Instrument(db *gorm.DB, observe func(operation string, elapsed time.Duration)) error {
	if db == nil {
		return fmt.Errorf("db cannot be nil")
	}
	if observe == nil {
		return fmt.Errorf("observe cannot be nil")
	}

	before := func(tx *gorm.DB) {
		tx.InstanceSet(startTimeKey, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(startTimeKey)
			if !ok {
				return
			}
			start, ok := v.(time.Time)
			if !ok {
				return
			}
			observe(operation, time.Since(start))
		}
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cb := db.Callback()
	collect(cb.Create().Before("gorm:create").Register("visionflow:before_create", before))
	collect(cb.Create().After("gorm:create").Register("visionflow:after_create", after("create")))
	collect(cb.Query().Before("gorm:query").Register("visionflow:before_query", before))
	collect(cb.Query().After("gorm:query").Register("visionflow:after_query", after("query")))
	collect(cb.Update().Before("gorm:update").Register("visionflow:before_update", before))
	collect(cb.Update().After("gorm:update").Register("visionflow:after_update", after("update")))
	collect(cb.Delete().Before("gorm:delete").Register("visionflow:before_delete", before))
	collect(cb.Delete().After("gorm:delete").Register("visionflow:after_delete", after("delete")))
	collect(cb.Row().Before("gorm:row").Register("visionflow:before_row", before))
	collect(cb.Row().After("gorm:row").Register("visionflow:after_row", after("row")))
	collect(cb.Raw().Before("gorm:raw").Register("visionflow:before_raw", before))
	collect(cb.Raw().After("gorm:raw").Register("visionflow:after_raw", after("raw")))

	if len(errs) > 0 {
		return fmt.Errorf("failed to register query callbacks: %v", errs)
	}

	return nil
}
