// Package command interprets console lines typed in the GUI.
//
// A line is one of three closed forms:
//
//	odrv0.vbus_voltage                          read a property
//	odrv0.axis0.requested_state = 8             write a property
//	odrv0.axis0.controller.move_incremental(1, true)   call a method
//
// The device aliases odrv0, odrv1, dev0, dev1, my_drive and odrive all
// refer to the connected device. Nothing is evaluated; values are limited
// to booleans, integers, floats and strings.
package command
