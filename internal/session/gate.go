package session

import "pod042/internal/models"

// InMode reports whether the chat is waiting to continue the given workflow.
// A nil state is a chat that was never seen, which is idle.
func InMode(state *models.ChatState, mode models.Mode) bool {
	if state == nil {
		return mode == models.ModeIdle
	}
	return state.Mode == mode
}

// InVkConfiguration reports whether either VK configuration step is open
func InVkConfiguration(state *models.ChatState) bool {
	return InMode(state, models.ModeConfigureVkGroups) || InMode(state, models.ModeConfigureVkGroupsAdd)
}

// InSoundboard reports whether a soundboard is open
func InSoundboard(state *models.ChatState) bool {
	return InMode(state, models.ModeSoundboardJojo) || InMode(state, models.ModeSoundboardGachi)
}
