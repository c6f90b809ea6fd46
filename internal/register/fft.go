package register

import "gonum.org/v1/gonum/dsp/fourier"

// fft2 performs in-place 2D complex FFTs on square size×size buffers by
// running 1D transforms over rows and then columns. Instances are not safe
// for concurrent use; each worker keeps its own.
type fft2 struct {
	size int
	plan *fourier.CmplxFFT
	col  []complex128
	tmp  []complex128
}

func newFFT2(size int) *fft2 {
	return &fft2{
		size: size,
		plan: fourier.NewCmplxFFT(size),
		col:  make([]complex128, size),
		tmp:  make([]complex128, size),
	}
}

// forward replaces data with its unnormalized 2D DFT.
func (f *fft2) forward(data []complex128) {
	n := f.size
	for y := 0; y < n; y++ {
		row := data[y*n : (y+1)*n]
		f.plan.Coefficients(f.tmp, row)
		copy(row, f.tmp)
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			f.col[y] = data[y*n+x]
		}
		f.plan.Coefficients(f.tmp, f.col)
		for y := 0; y < n; y++ {
			data[y*n+x] = f.tmp[y]
		}
	}
}

// inverse replaces data with its normalized 2D inverse DFT. The gonum
// transform is unnormalized, so the 1/n factor is applied per dimension.
func (f *fft2) inverse(data []complex128) {
	n := f.size
	scale := complex(1/float64(n), 0)
	for y := 0; y < n; y++ {
		row := data[y*n : (y+1)*n]
		f.plan.Sequence(f.tmp, row)
		for x := 0; x < n; x++ {
			row[x] = f.tmp[x] * scale
		}
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			f.col[y] = data[y*n+x]
		}
		f.plan.Sequence(f.tmp, f.col)
		for y := 0; y < n; y++ {
			data[y*n+x] = f.tmp[y] * scale
		}
	}
}
