// Package usbreset recovers a wedged USB device by resetting its port.
//
// It shells out to the usbreset utility from usbutils, which issues the
// USBDEVFS_RESET ioctl and only needs write access to the device node.
// A udev rule such as
//
//	SUBSYSTEM=="usb", ATTR{idVendor}=="1209", ATTR{idProduct}=="0d32", MODE="0666"
//
// lets drivelink run it without root. Presence is checked with lsusb -d.
//
// A *Resetter is a connection.Recoverer:
//
//	r, err := usbreset.New(usbreset.Config{VendorID: "1209", ProductID: "0d32"})
//	if err != nil {
//	    return err
//	}
//	mgr.SetRecoverer(r)
package usbreset
