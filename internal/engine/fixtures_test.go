package engine

import (
	"testing"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/weights"
)

// Tiny model geometry used across the engine tests: d_model 4, two heads,
// latent dim 2, five tokens.
func tinyLMConfig() LMConfig {
	return LMConfig{
		DModel:    4,
		NumHeads:  2,
		LatentDim: 2,
		MaxSeq:    32,
		RopeBase:  10000,
	}
}

func tinyDecoderConfig() DecoderConfig {
	return DecoderConfig{
		SampleRate:     24000,
		NumHeads:       2,
		RopeBase:       10000,
		MaxSeq:         64,
		UpsampleStride: 2,
		Strides:        []int{2},
		CrossfadeLen:   4,
	}
}

func ten(t *testing.T, data []float32, shape ...int) *mat.Tensor {
	t.Helper()

	tr, err := mat.New(data, shape...)
	if err != nil {
		t.Fatalf("mat.New: %v", err)
	}

	return tr
}

func zeroEntry(t *testing.T, name string, shape ...int) weights.Entry {
	t.Helper()

	tr, err := mat.Zeros(shape...)
	if err != nil {
		t.Fatalf("mat.Zeros: %v", err)
	}

	return weights.Entry{Name: name, Tensor: tr}
}

func dataEntry(t *testing.T, name string, data []float32, shape ...int) weights.Entry {
	t.Helper()

	return weights.Entry{Name: name, Tensor: ten(t, data, shape...)}
}

// samplerEntries builds a zero-weight flow net whose final linear layer has
// the given bias, so the predicted velocity is that constant everywhere.
func samplerEntries(t *testing.T, prefix string, finalBias []float32) []weights.Entry {
	t.Helper()

	p := func(name string) string { return prefix + "." + name }

	entries := []weights.Entry{
		dataEntry(t, p("time_embed.0.freqs"), []float32{1, 2}, 2),
		zeroEntry(t, p("time_embed.0.mlp.0.weight"), 4, 4),
		zeroEntry(t, p("time_embed.0.mlp.0.bias"), 4),
		zeroEntry(t, p("time_embed.0.mlp.2.weight"), 4, 4),
		zeroEntry(t, p("time_embed.0.mlp.2.bias"), 4),
		dataEntry(t, p("time_embed.0.mlp.3.alpha"), []float32{1, 1, 1, 1}, 4),
		dataEntry(t, p("time_embed.1.freqs"), []float32{1, 2}, 2),
		zeroEntry(t, p("time_embed.1.mlp.0.weight"), 4, 4),
		zeroEntry(t, p("time_embed.1.mlp.0.bias"), 4),
		zeroEntry(t, p("time_embed.1.mlp.2.weight"), 4, 4),
		zeroEntry(t, p("time_embed.1.mlp.2.bias"), 4),
		dataEntry(t, p("time_embed.1.mlp.3.alpha"), []float32{1, 1, 1, 1}, 4),
		zeroEntry(t, p("cond_embed.weight"), 4, 4),
		zeroEntry(t, p("cond_embed.bias"), 4),
		zeroEntry(t, p("input_proj.weight"), 4, 2),
		zeroEntry(t, p("input_proj.bias"), 4),
		zeroEntry(t, p("res_blocks.0.in_ln.weight"), 4),
		zeroEntry(t, p("res_blocks.0.in_ln.bias"), 4),
		zeroEntry(t, p("res_blocks.0.mlp.0.weight"), 4, 4),
		zeroEntry(t, p("res_blocks.0.mlp.0.bias"), 4),
		zeroEntry(t, p("res_blocks.0.mlp.2.weight"), 4, 4),
		zeroEntry(t, p("res_blocks.0.mlp.2.bias"), 4),
		zeroEntry(t, p("res_blocks.0.adaLN_modulation.1.weight"), 12, 4),
		zeroEntry(t, p("res_blocks.0.adaLN_modulation.1.bias"), 12),
		zeroEntry(t, p("final_layer.linear.weight"), 2, 4),
		dataEntry(t, p("final_layer.linear.bias"), finalBias, 2),
		zeroEntry(t, p("final_layer.adaLN_modulation.1.weight"), 8, 4),
		zeroEntry(t, p("final_layer.adaLN_modulation.1.bias"), 8),
	}

	return entries
}

// lmEntries builds a zero-weight latent language model under the flow_lm
// prefix. With zero weights every eos logit is zero and every sampled frame
// stays at its initial noise.
func lmEntries(t *testing.T) []weights.Entry {
	t.Helper()

	entries := []weights.Entry{
		zeroEntry(t, "flow_lm.conditioner.embed.weight", 5, 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.norm1.weight", 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.norm1.bias", 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.norm2.weight", 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.norm2.bias", 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.self_attn.in_proj.weight", 12, 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.self_attn.out_proj.weight", 4, 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.linear1.weight", 8, 4),
		zeroEntry(t, "flow_lm.transformer.layers.0.linear2.weight", 4, 8),
		dataEntry(t, "flow_lm.emb_std", []float32{1, 1}, 2),
		dataEntry(t, "flow_lm.emb_mean", []float32{0.5, -0.5}, 2),
		zeroEntry(t, "flow_lm.bos_emb", 2),
		zeroEntry(t, "flow_lm.input_linear.weight", 4, 2),
		zeroEntry(t, "flow_lm.input_linear.bias", 4),
		zeroEntry(t, "flow_lm.out_norm.weight", 4),
		zeroEntry(t, "flow_lm.out_norm.bias", 4),
		zeroEntry(t, "flow_lm.out_eos.weight", 1, 4),
		zeroEntry(t, "flow_lm.out_eos.bias", 1),
	}

	return append(entries, samplerEntries(t, "flow_lm.flow_net", []float32{0, 0})...)
}

// decoderEntries builds a zero-weight waveform decoder under the mimi prefix
// matching tinyDecoderConfig: one transformer layer and one synthesis stage.
func decoderEntries(t *testing.T) []weights.Entry {
	t.Helper()

	return []weights.Entry{
		zeroEntry(t, "mimi.quantizer.output_proj.weight", 4, 2, 1),
		zeroEntry(t, "mimi.upsample.convtr.convtr.weight", 4, 1, 2),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.norm1.weight", 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.norm1.bias", 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.norm2.weight", 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.norm2.bias", 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.self_attn.in_proj.weight", 12, 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.self_attn.out_proj.weight", 4, 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.linear1.weight", 8, 4),
		zeroEntry(t, "mimi.decoder_transformer.transformer.layers.0.linear2.weight", 4, 8),
		zeroEntry(t, "mimi.decoder.model.0.conv.weight", 4, 4, 1),
		zeroEntry(t, "mimi.decoder.model.0.conv.bias", 4),
		zeroEntry(t, "mimi.decoder.model.2.convtr.weight", 4, 2, 2),
		zeroEntry(t, "mimi.decoder.model.2.convtr.bias", 2),
		zeroEntry(t, "mimi.decoder.model.3.block.1.conv.weight", 2, 2, 1),
		zeroEntry(t, "mimi.decoder.model.3.block.1.conv.bias", 2),
		zeroEntry(t, "mimi.decoder.model.3.block.3.conv.weight", 2, 2, 1),
		zeroEntry(t, "mimi.decoder.model.3.block.3.conv.bias", 2),
		zeroEntry(t, "mimi.decoder.model.5.conv.weight", 1, 2, 1),
		zeroEntry(t, "mimi.decoder.model.5.conv.bias", 1),
	}
}

func storeFromEntries(t *testing.T, entries []weights.Entry) *weights.Store {
	t.Helper()

	blob, err := weights.EncodeTensors(entries)
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	store, err := weights.FromBytes(blob)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	return store
}

func tinyLM(t *testing.T) *LatentLM {
	t.Helper()

	store := storeFromEntries(t, lmEntries(t))

	lm, err := LoadLatentLM(weights.NewVarBuilder(store).Path("flow_lm"), tinyLMConfig())
	if err != nil {
		t.Fatalf("LoadLatentLM: %v", err)
	}

	return lm
}

func tinyDecoder(t *testing.T) *WaveDecoder {
	t.Helper()

	store := storeFromEntries(t, decoderEntries(t))

	dec, err := LoadWaveDecoder(weights.NewVarBuilder(store).Path("mimi"), tinyDecoderConfig())
	if err != nil {
		t.Fatalf("LoadWaveDecoder: %v", err)
	}

	return dec
}
