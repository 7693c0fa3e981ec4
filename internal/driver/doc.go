// Package driver defines the two primitives drivelink consumes from a
// vendor motor-controller driver: discovery ("find a device within a
// timeout") and property access on a connected handle.
//
// Implementations live in sub-packages. The sim package provides an
// in-memory bus used in development mode and tests.
package driver
