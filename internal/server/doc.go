// Package server exposes a project's task manager to IDE front-ends over
// HTTP. Front-ends list and run tasks, dispatch commands, switch the serial
// port and follow host events on a websocket.
package server
