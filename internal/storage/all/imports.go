// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it runs the init
// functions of each backend, which register their factories with the storage
// package. After importing it the following kinds are available:
//
//   - "mysql"    (phenoload/internal/storage/mysql)
//   - "postgres" (phenoload/internal/storage/postgres)
//   - "sqlite"   (phenoload/internal/storage/sqlite)
//
// Typical usage in a wiring layer:
//
//	import _ "phenoload/internal/storage/all"
//
//	st, err := storage.New(ctx, storage.Config{Kind: cfg.Store.Kind, DSN: dsn})
//	if err != nil {
//	    // handle error
//	}
//	defer st.Close()
package all

import (
	_ "phenoload/internal/storage/mysql"
	_ "phenoload/internal/storage/postgres"
	_ "phenoload/internal/storage/sqlite"
)
