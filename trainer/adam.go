package trainer

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments SGD technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
//
// Unlike a plain gradient transformer, an Adam carries its
// moment estimates in a serializable form so that training
// can resume from a checkpoint without resetting them.
type Adam struct {
	// Params determines the order in which the moment
	// vectors are serialized.
	// It must be set before MarshalBinary or
	// UnmarshalBinary is used.
	Params []*anydiff.Var

	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, defaults as suggested in the
	// original Adam paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// This should be very small.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform transforms the gradient using Adam.
//
// This is not thread-safe.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	a.updateMoments(realGrad)

	a.iteration++
	scalingFactor := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := a.damping()
	for variable, vec := range realGrad {
		firstVec := a.firstMoment[variable]
		secondVec := a.secondMoment[variable]

		vec.Set(firstVec)
		vec.Scale(vec.Creator().MakeNumeric(scalingFactor))

		divisor := secondVec.Copy()
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		vec.Div(divisor)
	}

	return realGrad
}

// MarshalBinary encodes the optimizer state, including the
// iteration count and the moment vectors.
func (a *Adam) MarshalBinary() ([]byte, error) {
	objs, err := a.stateObjects()
	if err != nil {
		return nil, essentials.AddCtx("marshal Adam", err)
	}
	return serializer.SerializeSlice(objs)
}

// UnmarshalBinary decodes state produced by MarshalBinary.
// The Params field must contain the same variables, in the
// same order, as it did when the state was encoded.
func (a *Adam) UnmarshalBinary(data []byte) error {
	objs, err := serializer.DeserializeSlice(data)
	if err != nil {
		return essentials.AddCtx("unmarshal Adam", err)
	}
	if err := a.restoreState(objs); err != nil {
		return essentials.AddCtx("unmarshal Adam", err)
	}
	return nil
}

// stateObjects flattens the state into serializer objects:
// the iteration count, then a pair of moment vectors per
// parameter in Params order.
func (a *Adam) stateObjects() ([]serializer.Serializer, error) {
	objs := []serializer.Serializer{serializer.Float64(a.iteration)}
	if a.firstMoment == nil {
		return objs, nil
	}
	for _, v := range a.Params {
		firstVec, ok := a.firstMoment[v]
		if !ok {
			return nil, fmt.Errorf("no moment state for variable of size %d",
				v.Vector.Len())
		}
		secondVec := a.secondMoment[v]
		objs = append(objs, &anyvecsave.S{Vector: firstVec},
			&anyvecsave.S{Vector: secondVec})
	}
	return objs, nil
}

// restoreState is the inverse of stateObjects.
func (a *Adam) restoreState(objs []serializer.Serializer) error {
	if len(objs) == 0 {
		return fmt.Errorf("missing iteration count")
	}
	iter, ok := objs[0].(serializer.Float64)
	if !ok {
		return fmt.Errorf("bad iteration count type: %T", objs[0])
	}
	if len(objs) == 1 {
		a.iteration = float64(iter)
		a.firstMoment = nil
		a.secondMoment = nil
		return nil
	}
	if len(objs) != 1+2*len(a.Params) {
		return fmt.Errorf("got %d moment vectors but expected %d",
			len(objs)-1, 2*len(a.Params))
	}
	first := anydiff.Grad{}
	second := anydiff.Grad{}
	for i, v := range a.Params {
		s1, ok1 := objs[1+2*i].(*anyvecsave.S)
		s2, ok2 := objs[2+2*i].(*anyvecsave.S)
		if !ok1 || !ok2 {
			return fmt.Errorf("bad moment vector types: %T, %T",
				objs[1+2*i], objs[2+2*i])
		}
		if s1.Vector.Len() != v.Vector.Len() || s2.Vector.Len() != v.Vector.Len() {
			return fmt.Errorf("variable %d: moment length mismatch", i)
		}
		first[v] = s1.Vector
		second[v] = s2.Vector
	}
	a.iteration = float64(iter)
	a.firstMoment = first
	a.secondMoment = second
	return nil
}

func (a *Adam) updateMoments(grad anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = copyGrad(grad)
		scaleGrad(a.firstMoment, 1-a.decayRate(1))
	} else {
		decayRate := a.decayRate(1)
		scaleGrad(a.firstMoment, decayRate)

		keepRate := 1 - decayRate
		for variable, vec := range grad {
			momentVec := a.firstMoment[variable]
			v := vec.Copy()
			v.Scale(vec.Creator().MakeNumeric(keepRate))
			momentVec.Add(v)
		}
	}

	if a.secondMoment == nil {
		a.secondMoment = copyGrad(grad)
		for _, v := range a.secondMoment {
			anyvec.Pow(v, v.Creator().MakeNumeric(2))
		}
		scaleGrad(a.secondMoment, 1-a.decayRate(2))
	} else {
		decayRate := a.decayRate(2)
		scaleGrad(a.secondMoment, decayRate)
		keepRate := 1 - decayRate
		for variable, vec := range grad {
			momentVec := a.secondMoment[variable]
			v := vec.Copy()
			anyvec.Pow(v, v.Creator().MakeNumeric(2))
			v.Scale(v.Creator().MakeNumeric(keepRate))
			momentVec.Add(v)
		}
	}
}

func (a *Adam) decayRate(moment int) float64 {
	if moment == 1 {
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	} else if moment == 2 {
		return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	} else {
		panic("invalid moment.")
	}
}

func (a *Adam) damping() float64 {
	if a.Damping != 0 {
		return a.Damping
	} else {
		return adamDefaultDamping
	}
}

func copyGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for variable, vec := range g {
		res[variable] = vec.Copy()
	}
	return res
}

func scaleGrad(g anydiff.Grad, s float64) {
	for _, v := range g {
		v.Scale(v.Creator().MakeNumeric(s))
	}
}

func valueOrDefault(value, defaultValue float64) float64 {
	if value != 0 {
		return value
	}
	return defaultValue
}

var _ anysgd.TransformMarshaler = &Adam{}
