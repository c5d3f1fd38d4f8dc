package capture

const borderWidth = 2

// drawBorder paints a capture highlight around the edge of f.
func drawBorder(f *Frame) {
	if f.Width < 2*borderWidth || f.Height < 2*borderWidth {
		return
	}
	paint := func(x, y int) {
		i := y*f.Linesize + x*4
		f.Data[i+0] = 0x00 // B
		f.Data[i+1] = 0xd7 // G
		f.Data[i+2] = 0xff // R
		f.Data[i+3] = 0xff
	}
	for y := 0; y < f.Height; y++ {
		edgeRow := y < borderWidth || y >= f.Height-borderWidth
		for x := 0; x < f.Width; x++ {
			if edgeRow || x < borderWidth || x >= f.Width-borderWidth {
				paint(x, y)
			}
		}
	}
}
