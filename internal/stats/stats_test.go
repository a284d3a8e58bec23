package stats

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestOLSRecoversExactLine(t *testing.T) {
	n := 20
	data := make([]float64, 0, n*2)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		data = append(data, 1, x)
		y[i] = 1 + 2*x
	}
	res, err := OLS(mat.NewDense(n, 2, data), y)
	if err != nil {
		t.Fatalf("OLS: %v", err)
	}
	if math.Abs(res.Coefficients[0]-1) > 1e-9 || math.Abs(res.Coefficients[1]-2) > 1e-9 {
		t.Fatalf("coefficients = %v, want [1 2]", res.Coefficients)
	}
	if res.SSR > 1e-12 {
		t.Fatalf("ssr = %v, want 0", res.SSR)
	}
}

func TestOLSSingular(t *testing.T) {
	n := 10
	data := make([]float64, 0, n*2)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		data = append(data, float64(i), float64(i))
		y[i] = float64(i)
	}
	if _, err := OLS(mat.NewDense(n, 2, data), y); !errors.Is(err, ErrSingular) {
		t.Fatalf("expected ErrSingular, got %v", err)
	}
}

func TestMacKinnonP(t *testing.T) {
	cases := []struct {
		stat float64
		n    int
		want float64
		tol  float64
	}{
		{-3.34, 2, 0.0495, 0.001},
		{-30, 2, 0, 0},
		{5, 2, 1, 0},
		{-2.86, 1, 0.05, 0.002},
	}
	for _, c := range cases {
		got, err := MacKinnonP(c.stat, c.n)
		if err != nil {
			t.Fatalf("MacKinnonP(%v, %d): %v", c.stat, c.n, err)
		}
		if math.Abs(got-c.want) > c.tol {
			t.Errorf("MacKinnonP(%v, %d) = %v, want %v", c.stat, c.n, got, c.want)
		}
	}

	below, _ := MacKinnonP(-2.6201, 2)
	above, _ := MacKinnonP(-2.6199, 2)
	if math.Abs(below-above) > 0.005 {
		t.Errorf("response surface discontinuous at tau*: %v vs %v", below, above)
	}

	if _, err := MacKinnonP(-3, 5); err == nil {
		t.Errorf("expected error for unsupported system size")
	}
}

func TestADFSeparatesStationaryFromRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 500
	ar := make([]float64, n)
	walk := make([]float64, n)
	for i := 1; i < n; i++ {
		ar[i] = 0.5*ar[i-1] + rng.NormFloat64()
		walk[i] = walk[i-1] + rng.NormFloat64()
	}

	stationary, err := ADF(ar, -1, TrendConstant)
	if err != nil {
		t.Fatalf("ADF stationary: %v", err)
	}
	p, _ := MacKinnonP(stationary.Statistic, 1)
	if p > 0.01 {
		t.Errorf("stationary series p-value = %v (stat %v)", p, stationary.Statistic)
	}

	nonStationary, err := ADF(walk, -1, TrendConstant)
	if err != nil {
		t.Fatalf("ADF walk: %v", err)
	}
	if nonStationary.Statistic <= stationary.Statistic {
		t.Errorf("random walk stat %v not above stationary stat %v", nonStationary.Statistic, stationary.Statistic)
	}
}

func TestADFFixedLag(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := make([]float64, 200)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	res, err := ADF(x, 3, TrendNone)
	if err != nil {
		t.Fatalf("ADF: %v", err)
	}
	if res.Lags != 3 {
		t.Errorf("lags = %d, want 3", res.Lags)
	}
	if res.NObs != len(x)-1-3 {
		t.Errorf("nobs = %d, want %d", res.NObs, len(x)-4)
	}
}

func TestADFTooShort(t *testing.T) {
	if _, err := ADF([]float64{1}, -1, TrendConstant); err == nil {
		t.Fatalf("expected error for one observation")
	}
}

func TestHalfLife(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := make([]float64, 2000)
	for i := 1; i < len(s); i++ {
		s[i] = 0.5*s[i-1] + rng.NormFloat64()
	}
	hl := HalfLife(s)
	if math.Abs(hl-math.Ln2/0.5) > 0.3 {
		t.Errorf("half-life = %v, want about %v", hl, math.Ln2/0.5)
	}

	growing := make([]float64, 50)
	growing[0] = 1
	for i := 1; i < len(growing); i++ {
		growing[i] = growing[i-1] * 1.1
	}
	if hl := HalfLife(growing); hl != 0 {
		t.Errorf("explosive series half-life = %v, want 0", hl)
	}
}
