package command

// Classic Sphero async messages.
func asyncNotifications() []*Notification {
	return []*Notification{
		event(Async, 1, "battery_state_changed", decodePowerStates),
		event(Async, 3, "sensor_streaming_data", decodeInt16List),
		signal(Async, 5, "will_sleep"),
		event(Async, 7, "collision_detected", decodeCollisionClassic),
		event(Async, 12, "gyro_max", decodeU8),
		signal(Async, 20, "did_sleep"),
	}
}

func apiAndShellNotifications() []*Notification {
	return []*Notification{
		event(APIAndShell, 3, "send_string_to_console", decodeConsoleString),
	}
}

func powerNotifications() []*Notification {
	return []*Notification{
		event(Power, 6, "battery_state_changed", decodeBatteryState),
		signal(Power, 25, "will_sleep"),
		signal(Power, 26, "did_sleep"),
	}
}

func driveNotifications() []*Notification {
	return []*Notification{
		event(Drive, 38, "motor_stall", decodeMotorStall),
		event(Drive, 40, "motor_fault", decodeBool),
	}
}

func animatronicNotifications() []*Notification {
	return []*Notification{
		signal(Animatronic, 17, "play_animation_complete"),
		signal(Animatronic, 38, "leg_action_complete"),
		signal(Animatronic, 58, "head_reset_to_zero"),
	}
}

// sensorNotifications takes the collision rule because its layout depends on
// the toy kind.
func sensorNotifications(collision DecodeFunc) []*Notification {
	return []*Notification{
		event(Sensor, 2, "sensor_streaming_data", decodeUint32List),
		event(Sensor, 16, "gyro_max", decodeU8),
		event(Sensor, 18, "collision_detected", collision),
	}
}
