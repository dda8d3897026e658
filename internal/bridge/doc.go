// Package bridge connects the toy fleet to MQTT.
//
// Topics, under the configured prefix:
//
//	{prefix}/command/{toy}              in:  CommandMessage
//	{prefix}/ack/{toy}                  out: Ack, one per command
//	{prefix}/event/{toy}/{notification} out: EventMessage
//	{prefix}/state/{toy}                out: StateMessage, retained
//	{prefix}/health                     out: online/offline, retained, LWT
//	{prefix}/routine/{name}/run         in:  RoutineRunMessage (WithRoutines)
//	{prefix}/routine/{name}/result      out: RoutineResult
//
// Commands are executed as they arrive; a slow toy does not hold up
// commands addressed to other toys. Every executed command is audited.
package bridge
