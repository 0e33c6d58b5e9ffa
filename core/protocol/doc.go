// Package protocol describes a liquid-handling run declaratively and executes
// it: every table is read and every plan is built before the robot moves.
package protocol
