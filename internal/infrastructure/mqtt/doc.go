// Package mqtt is the uplink from the Z-Wave bridge to the site MQTT broker,
// built on eclipse/paho.mqtt.golang.
//
// It is separate from the embedded broker in internal/broker: the embedded
// broker faces the Z-Wave gateway, this client faces the rest of the
// building. Entity state is published retained under
//
//	{root}/state/zwave/{device}/{unit}
//
// and commands arrive on {root}/command/zwave/{device}/{unit}. The bridge
// health topic {root}/health/zwave carries "online" after every connect and
// "offline" on shutdown or, through the last will, on an unexpected drop.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllEntityCommands(), 1, handler)
package mqtt
