// Command participant joins a meeting from the terminal: it speaks the
// signaling protocol, negotiates a WebRTC data channel with every other
// participant and relays chat typed on stdin.
package main

func main() {
	Execute()
}
