// Command hostagent runs the host agent: it plans user requests, delegates
// them to remote worker agents and assembles their results.
package main

func main() {
	Execute()
}
