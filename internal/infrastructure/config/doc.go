// Package config loads the Z-Wave broker configuration from a YAML file,
// applies GRAYLOGIC_* environment overrides, then validates the result with
// struct tags plus rules that span sections (distinct plain and TLS ports,
// an uplink host when the uplink is enabled, a JWT secret for the API).
//
// Broker credentials, the uplink password, the InfluxDB token and the JWT
// secret belong in the environment rather than the file:
//
//	GRAYLOGIC_BROKER_PASSWORD   broker.auth.password
//	GRAYLOGIC_MQTT_PASSWORD     mqtt.auth.password
//	GRAYLOGIC_INFLUXDB_TOKEN    influxdb.token
//	GRAYLOGIC_JWT_SECRET        security.jwt.secret
package config
