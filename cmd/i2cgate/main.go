// Package main provides the i2cgate CLI, which runs WebAssembly guests with
// mediated access to an I2C bus.
package main

func main() {
	Execute()
}
