// Package actuator models the controller's single binary output and the
// drivers that set it.
//
// Two drivers are provided: "log", which stands in for an LED by logging
// each change, and "gpio", which writes the level to a sysfs GPIO value
// file. Drivers never hold state; the control loop owns the current State
// and only commits a change after Drive succeeds.
package actuator
