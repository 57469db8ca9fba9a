package handshake

// ChooseFirst picks the first entry of preferred that also appears in
// supported — the client's side of the negotiation algorithm in spec
// §4.4 ("the client picks the first element of C_comp that is in S_comp
// (likewise crypto)").
func ChooseFirst(preferred, supported []string) (string, bool) {
	set := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		set[s] = struct{}{}
	}
	for _, p := range preferred {
		if _, ok := set[p]; ok {
			return p, true
		}
	}
	return "", false
}

// IntersectDTypes returns the dtypes present in both sets, preserving the
// order of client. Spec §4.4: "the intersection of dtype sets governs
// which tensor encodings may appear in later frames."
func IntersectDTypes(client, server []string) []string {
	set := make(map[string]struct{}, len(server))
	for _, s := range server {
		set[s] = struct{}{}
	}
	var out []string
	for _, c := range client {
		if _, ok := set[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AgreedProto returns min(clientV, serverV) — spec §4.4, "currently both
// are 1".
func AgreedProto(clientV, serverV int) int {
	if clientV < serverV {
		return clientV
	}
	return serverV
}

// ReduceCapability builds the server's reduced capability record when the
// client requested features the server cannot honor (spec §4.4: "the
// server responds with a reduced capability record — features removed,
// not rejected").
func ReduceCapability(full ServerCapabilities, clientCompress, clientCrypto, clientDTypes []string) Capability {
	compress, _ := ChooseFirst(clientCompress, full.Compress)
	crypto, _ := ChooseFirst(clientCrypto, full.Crypto)

	var compressList []string
	if compress != "" {
		compressList = []string{compress}
	}
	var cryptoList []string
	if crypto != "" {
		cryptoList = []string{crypto}
	}

	return Capability{
		Method:           MethodCapability,
		V:                full.V,
		AgreedProto:      AgreedProto(full.V, full.V),
		DModel:           full.DModel,
		EmbeddingSpaceID: full.EmbeddingSpaceID,
		SpaceHash32:      full.SpaceHash32,
		Compress:         compressList,
		Crypto:           cryptoList,
		Supports: Supports{
			Critique: full.Supports.Critique,
			DType:    IntersectDTypes(clientDTypes, full.Supports.DType),
		},
	}
}
