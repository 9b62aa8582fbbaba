package ui

// maxTiles is the most tiles the call grid shows at once.
const maxTiles = 9

// gridLayout returns the call grid for count tiles: 2x2 up to four tiles,
// 3x3 beyond that. Tiles past the ninth are not shown.
func gridLayout(count int) (cols, rows, shown int) {
	shown = min(max(count, 0), maxTiles)
	if shown <= 4 {
		return 2, 2, shown
	}
	return 3, 3, shown
}
