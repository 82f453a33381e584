package entities

// AuthPrompt represents one prompt-response step of a login sequence
type AuthPrompt struct {
	WaitFor string // prompt to wait for
	SendCmd string // text to send (empty means just wait)
}
