// Package device provides the host entity store for the Z-Wave bridge.
//
// Every Z-Wave endpoint the bridge discovers is exposed to Gray Logic as one
// entity addressed by (device id, unit). The store keeps each entity's
// category, current value, battery level and last-update time, plus a
// change log for values the bridge asks to have logged.
//
// # Architecture
//
//	┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │───▶│    Repository    │───▶│  SQLite entities │
//	│  (registry.go)   │    │ (repository.go)  │    │   + entity_log   │
//	│ • in-memory cache│    │ • SQL queries    │    └──────────────────┘
//	│ • event fan-out  │    │ • change log     │
//	└──────────────────┘    └──────────────────┘
//	          │
//	          ▼ Event (created / updated / touched)
//	  MQTT uplink relay, InfluxDB history, WebSocket hub
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	registry.Subscribe(func(ev device.Event) { ... })
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Entities returned by the
// registry are deep copies; callers may modify them freely.
package device
