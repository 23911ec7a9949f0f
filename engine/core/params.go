package core

import (
	"maps"

	"github.com/mohae/deepcopy"
)

type (
	Input  map[string]any
	Output map[string]any
)

func NewInput(m map[string]any) Input {
	if m == nil {
		return make(Input)
	}
	return Input(m)
}

func (i *Input) Merge(other *Input) (*Input, error) {
	if i == nil {
		return other, nil
	}
	if other == nil {
		return i, nil
	}
	result, err := Merge(map[string]any(*i), map[string]any(*other), "input")
	if err != nil {
		return nil, err
	}
	newInput := Input(result)
	return &newInput, nil
}

func (i *Input) Prop(key string) any {
	if i == nil {
		return nil
	}
	return (*i)[key]
}

func (i *Input) Set(key string, value any) {
	if i == nil {
		return
	}
	(*i)[key] = value
}

func (i *Input) AsMap() map[string]any {
	if i == nil {
		return nil
	}
	result := make(map[string]any)
	maps.Copy(result, *i)
	return result
}

// DeepCopy returns a fully independent copy of the input.
func (i Input) DeepCopy() Input {
	if i == nil {
		return nil
	}
	return Input(deepcopy.Copy(map[string]any(i)).(map[string]any))
}

func NewOutput(m map[string]any) Output {
	if m == nil {
		return make(Output)
	}
	return Output(m)
}

func (o *Output) Merge(other Output) (Output, error) {
	if o == nil {
		return other, nil
	}
	result, err := Merge(map[string]any(*o), map[string]any(other), "output")
	if err != nil {
		return nil, err
	}
	return Output(result), nil
}

func (o *Output) Prop(key string) any {
	if o == nil {
		return nil
	}
	return (*o)[key]
}

func (o *Output) AsMap() map[string]any {
	if o == nil {
		return nil
	}
	result := make(map[string]any)
	maps.Copy(result, *o)
	return result
}

func (o Output) DeepCopy() Output {
	if o == nil {
		return nil
	}
	return Output(deepcopy.Copy(map[string]any(o)).(map[string]any))
}
