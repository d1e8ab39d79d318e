// Package pio talks to the PlatformIO CLI.
//
// It provides the project observer (environments, task catalogues and the
// active environment), the argument builder that injects a serial port
// override into task arguments, and serial port enumeration. Every CLI call
// goes through a Runner so tests can substitute canned output.
package pio
