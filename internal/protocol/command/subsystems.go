package command

import "time"

// Classic Sphero core commands (device id 0x00).
var coreCommands = []*Descriptor{
	cmd(Core, 1, "ping"),
	cmd(Core, 2, "get_versions").returns(decodeVersions),
	cmd(Core, 16, "set_bluetooth_name", arg("name", CString)),
	cmd(Core, 17, "get_bluetooth_info").returns(decodeBluetoothInfo),
	cmd(Core, 32, "get_power_state").returns(decodePowerState),
	cmd(Core, 33, "enable_battery_state_changed_notify", arg("enable", Bool)),
	cmd(Core, 34, "sleep", arg("interval_option", U16), arg("unk", U8), arg("unk2", U16)),
	cmd(Core, 37, "set_inactivity_timeout", arg("timeout", U16)),
	cmd(Core, 38, "get_charger_state").returns(decodeU8),
	cmd(Core, 39, "get_factory_config_block_crc").returns(decodeUint),
	cmd(Core, 48, "jump_to_bootloader").within(2 * time.Second), // reboots before answering
}

// Classic Sphero driving and configuration commands (device id 0x02).
var spheroCommands = []*Descriptor{
	cmd(Sphero, 1, "set_heading", arg("heading", U16)),
	cmd(Sphero, 2, "set_stabilization", arg("stabilize", Bool)),
	cmd(Sphero, 3, "set_rotation_rate", arg("rate", U8)),
	cmd(Sphero, 7, "get_chassis_id").returns(decodeUint),
	cmd(Sphero, 9, "self_level", arg("options", U8), arg("angle_limit", U8), arg("timeout", U8), arg("true_time", U8)),
	cmd(Sphero, 17, "set_data_streaming",
		arg("interval", U16), arg("num_samples_per_packet", U16), arg("mask", U32), arg("count", U8), arg("extended_mask", U32)),
	cmd(Sphero, 18, "configure_collision_detection",
		arg("method", U8), arg("x_threshold", U8), arg("y_threshold", U8), arg("x_speed", U8), arg("y_speed", U8), arg("dead_time", U8)),
	cmd(Sphero, 19, "configure_locator", arg("flags", U8), arg("x", U16), arg("y", U16), arg("yaw_tare", U16)),
	cmd(Sphero, 22, "get_temperature").returns(decodeTemperature),
	cmd(Sphero, 32, "set_main_led", arg("r", U8), arg("g", U8), arg("b", U8)),
	cmd(Sphero, 33, "set_back_led_brightness", arg("brightness", U8)),
	cmd(Sphero, 48, "roll", arg("speed", U8), arg("heading", U16), arg("roll_mode", U8), arg("reverse_flag", U8)),
	cmd(Sphero, 49, "boost", arg("s", U8), arg("s2", U16)),
	cmd(Sphero, 51, "set_raw_motors", arg("left_mode", U8), arg("left_speed", U8), arg("right_mode", U8), arg("right_speed", U8)),
	cmd(Sphero, 52, "set_motion_timeout", arg("timeout", U16)),
	cmd(Sphero, 53, "set_persistent_options", arg("options", U32)),
	cmd(Sphero, 54, "get_persistent_options").returns(decodeOptions),
	cmd(Sphero, 55, "set_temporary_options", arg("options", U32)),
	cmd(Sphero, 56, "get_temporary_options").returns(decodeOptions),
	cmd(Sphero, 58, "get_sku").returns(decodeReversedString),
}

var apiAndShellCommands = []*Descriptor{
	cmd(APIAndShell, 0, "ping", arg("data", Bytes)).returns(decodeRaw),
	cmd(APIAndShell, 1, "get_api_protocol_version").returns(decodeVersion),
	cmd(APIAndShell, 2, "send_command_to_shell", arg("command", CString)),
	cmd(APIAndShell, 5, "get_supported_dids").returns(decodeRaw),
	cmd(APIAndShell, 6, "get_supported_cids", arg("did", U8)).returns(decodeRaw),
}

var powerCommands = []*Descriptor{
	cmd(Power, 0, "enter_deep_sleep", arg("s", U8)),
	cmd(Power, 1, "sleep"),
	cmd(Power, 3, "get_battery_voltage").returns(decodeBatteryVoltage),
	cmd(Power, 4, "get_battery_state").returns(decodeBatteryState),
	cmd(Power, 5, "enable_battery_state_changed_notify", arg("enable", Bool)),
	cmd(Power, 13, "wake"),
	cmd(Power, 16, "get_battery_percentage").returns(decodeU8),
	cmd(Power, 23, "get_battery_voltage_state").returns(decodeBatteryState),
}

var driveCommands = []*Descriptor{
	cmd(Drive, 1, "set_raw_motors", arg("left_mode", U8), arg("left_speed", U8), arg("right_mode", U8), arg("right_speed", U8)),
	cmd(Drive, 6, "reset_yaw"),
	cmd(Drive, 7, "drive_with_heading", arg("speed", U8), arg("heading", U16), arg("drive_flags", U8)),
	cmd(Drive, 11, "generic_raw_motor", arg("index", U8), arg("mode", U8), arg("speed", Bytes)),
	cmd(Drive, 12, "set_stabilization", arg("stabilization_index", U8)),
	cmd(Drive, 14, "set_control_system_type", arg("s", U8), arg("s2", U8)),
	cmd(Drive, 15, "set_pitch_torque_modification_value", arg("f", U8)),
	cmd(Drive, 32, "set_component_parameters", arg("s", U8), arg("s2", U8), arg("values", F32List)),
	cmd(Drive, 33, "get_component_parameters", arg("s", U8), arg("s2", U8)).returns(decodeF32List),
	cmd(Drive, 34, "set_custom_control_system_timeout", arg("timeout", U16)),
	cmd(Drive, 37, "enable_motor_stall_notify", arg("enable", Bool)),
	cmd(Drive, 39, "enable_motor_fault_notify", arg("enable", Bool)),
	cmd(Drive, 41, "get_motor_fault_state").returns(decodeBool),
}

var animatronicCommands = []*Descriptor{
	cmd(Animatronic, 5, "play_animation", arg("animation", U16)),
	cmd(Animatronic, 13, "perform_leg_action", arg("leg_action", U8)),
	cmd(Animatronic, 15, "set_head_position", arg("head_position", F32)),
	cmd(Animatronic, 20, "get_head_position").returns(decodeF32),
	cmd(Animatronic, 21, "set_leg_position", arg("leg_position", F32)),
	cmd(Animatronic, 22, "get_leg_position").returns(decodeF32),
	cmd(Animatronic, 37, "get_leg_action").returns(decodeU8),
	cmd(Animatronic, 42, "enable_leg_action_notify", arg("enable", Bool)),
	cmd(Animatronic, 43, "stop_animation"),
	cmd(Animatronic, 44, "enable_idle_animations", arg("enable", Bool)),
	cmd(Animatronic, 45, "enable_trophy_mode", arg("enable", Bool)),
	cmd(Animatronic, 46, "get_trophy_mode_enabled").returns(decodeBool),
	cmd(Animatronic, 57, "enable_head_reset_to_zero_notify", arg("enable", Bool)),
}

var sensorCommands = []*Descriptor{
	cmd(Sensor, 0, "set_sensor_streaming_mask", arg("interval", U16), arg("count", U8), arg("mask", U32)),
	cmd(Sensor, 1, "get_sensor_streaming_mask").returns(decodeStreamingMask),
	cmd(Sensor, 12, "set_extended_sensor_streaming_mask", arg("mask", U32)),
	cmd(Sensor, 13, "get_extended_sensor_streaming_mask").returns(decodeU32),
	cmd(Sensor, 15, "enable_gyro_max_notify", arg("enable", Bool)),
	cmd(Sensor, 17, "configure_collision_detection",
		arg("method", U8), arg("x_threshold", U8), arg("y_threshold", U8), arg("x_speed", U8), arg("y_speed", U8), arg("dead_time", U8)),
	cmd(Sensor, 19, "reset_locator_x_and_y"),
	cmd(Sensor, 20, "enable_collision_detected_notify", arg("enable", Bool)),
	cmd(Sensor, 23, "set_locator_flags", arg("flags", U8)),
}

var firmwareCommands = []*Descriptor{
	cmd(Firmware, 13, "get_pending_update_flags").returns(decodeUint),
	cmd(Firmware, 21, "get_current_application_id").returns(decodeU8),
	cmd(Firmware, 22, "get_all_updatable_processors"),
	cmd(Firmware, 24, "get_version_for_updatable_processors"),
	cmd(Firmware, 26, "set_pending_update_for_processors", arg("data", Bytes)).returns(decodeU8),
	cmd(Firmware, 27, "get_pending_update_for_processors").returns(decodeRaw),
	cmd(Firmware, 28, "reset_with_parameters", arg("strategy", U8)),
	cmd(Firmware, 38, "clear_pending_update_processors", arg("data", Bytes)),
}
