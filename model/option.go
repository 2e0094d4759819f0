/*
 * Copyright 2025 Loomflow Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package model

// Options is the common options for a generation request.
type Options struct {
	// Provider is the provider name, e.g. "openai" or "anthropic".
	Provider *string
	// Model is the model name.
	Model *string
	// Temperature controls the randomness of the model.
	Temperature *float32
	// MaxTokens is the max number of tokens to generate.
	MaxTokens *int
}

// Option is the call option for the Caller collaborator.
type Option struct {
	apply func(opts *Options)
}

// WithProvider is the option to set the provider name.
func WithProvider(provider string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Provider = &provider
		},
	}
}

// WithModel is the option to set the model name.
func WithModel(name string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Model = &name
		},
	}
}

// WithTemperature is the option to set the temperature for the model.
func WithTemperature(temperature float32) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Temperature = &temperature
		},
	}
}

// WithMaxTokens is the option to set the max tokens for the model.
func WithMaxTokens(maxTokens int) Option {
	return Option{
		apply: func(opts *Options) {
			opts.MaxTokens = &maxTokens
		},
	}
}

// GetCommonOptions extract model Options from Option list, optionally with
// base Options that the returned value inherits from.
func GetCommonOptions(base *Options, opts ...Option) *Options {
	if base == nil {
		base = &Options{}
	}

	for i := range opts {
		opt := opts[i]
		if opt.apply != nil {
			opt.apply(base)
		}
	}

	return base
}
