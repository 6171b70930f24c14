// Package session tracks the sandbox state of each side of an arena
// conversation.
//
// A Side moves through configure, edit or message-run, and run. Configure
// picks the environment and its instruction until ApplyInstruction locks the
// configuration at the first chat round. Edit and MessageRun update the
// pending code and return a lazy sequence of Updates: a loading frame, then
// a frame with the served URL, the printed output or the error. Identical
// input never dispatches twice.
//
//	for update, err := range side.MessageRun(ctx, message) {
//	    if err != nil {
//	        return err
//	    }
//	    render(update.View)
//	}
package session
