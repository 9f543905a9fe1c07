// Package influxdb records host entity state history in InfluxDB v2.
//
// Every change-logged entity update becomes one point in the
// "zwave_entity" measurement, tagged by device id, unit and type.
// Writes are blocking so failures are visible to the caller, and they pass
// through a sony/gobreaker circuit breaker so an unreachable server costs
// one fast ErrBreakerOpen per update instead of a timeout.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteEntityState(ctx, influxdb.EntityPoint{...})
//
// History is best effort: callers log write errors and carry on.
package influxdb
