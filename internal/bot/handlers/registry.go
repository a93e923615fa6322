package handlers

// RegisterAllCommands returns the chain of "!" commands in the order they
// are tried. Debug commands come first so that they cannot be shadowed.
func RegisterAllCommands(deps HandlerDeps) Chain {
	return NewChain(
		DebugOnly(NewDebugHandler(deps)),
	).Or(
		NewRecommendHandler(deps),
		NewResetHandler(deps),
		NewComplainHandler(deps),
		NewHelpHandler(deps),
		NewFAQHandler(deps),
	)
}

// RegisterFreeText returns the chain consulted for messages and actions
// that are not commands. Unrecognized text gets no response.
func RegisterFreeText(deps HandlerDeps) Chain {
	return NewChain(
		DonatorOnly(NewHugHandler(deps)),
	)
}

// RegisterActions returns the chain consulted for actions ("/me ...").
// Now-playing actions come first; everything else is treated as free text.
func RegisterActions(deps HandlerDeps) Chain {
	return NewNowPlayingHandler(deps).Or(RegisterFreeText(deps))
}
