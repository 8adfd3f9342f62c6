// Command companiond runs the companion frame transport on a BLE link and
// inspects its session journal.
package main

func main() {
	Execute()
}
