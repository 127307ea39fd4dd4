// Command napt-router runs the self-provisioning NAT router lifecycle.
package main

func main() {
	Execute()
}
