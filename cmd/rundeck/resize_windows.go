package main

// watchResize is a no-op; consoles on Windows do not signal resizes.
func watchResize(func()) func() {
	return func() {}
}
