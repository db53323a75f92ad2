// Package input provides the byte sources the framer reads from: capture
// files, stdin, serial ports and a reconnecting TCP client that rebinds the
// framer's input on every new connection.
package input
