/*
Package browser provisions real Chromium instances for remote sessions.

# Overview

Every session gets its own persistent Chromium context, launched through
playwright with a throwaway profile directory. The context holds a single
tab sized to the client's viewport; the blank tab Chromium opens on its own
is closed.

# Screencast

Frames come from the DevTools protocol rather than screenshots:

	Page.startScreencast {format, quality, everyNthFrame}
	Page.screencastFrame  -> handler -> Page.screencastFrameAck {sessionId}
	Page.stopScreencast

Chromium sends the next frame only after the previous one is acknowledged.

# Capture

The recording extension is loaded into every browser. ExtensionBridge
attaches to its background page, calls START_RECORDING and STOP_RECORDING,
and receives chunks through an exposed sendData({id, data}) binding. All
chunks from all browsers leave through one channel, Chunks().

# Usage

	bridge := browser.NewExtensionBridge(cfg.ExtensionID, 0, logger)
	launcher, err := browser.NewLauncher(browser.Config{
		ExtensionPath: "extension",
		ExtensionID:   cfg.ExtensionID,
		LaunchTimeout: 30 * time.Second,
	}, bridge, logger)
	if err != nil {
		return err
	}
	defer launcher.Close()

	go registry.Run(ctx, bridge.Chunks())
*/
package browser
