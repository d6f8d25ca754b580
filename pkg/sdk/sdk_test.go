package sdk_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smykla-labs/pluginhost/pkg/sdk"
)

var _ = Describe("Result", func() {
	Describe("OK", func() {
		It("wraps data in a successful result", func() {
			res := sdk.OK(map[string]any{"count": 3})

			Expect(res.Success).To(BeTrue())
			Expect(res.Data).To(HaveKeyWithValue("count", 3))
			Expect(res.Message).To(BeEmpty())
		})
	})

	Describe("OKMessage", func() {
		It("carries a message without data", func() {
			res := sdk.OKMessage("refreshed")

			Expect(res.Success).To(BeTrue())
			Expect(res.Message).To(Equal("refreshed"))
			Expect(res.Data).To(BeNil())
		})
	})

	Describe("Fail", func() {
		It("marks the result unsuccessful", func() {
			res := sdk.Fail("upstream unreachable")

			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("upstream unreachable"))
		})
	})

	It("omits empty fields in JSON", func() {
		data, err := json.Marshal(sdk.Fail("nope"))
		Expect(err).NotTo(HaveOccurred())

		var doc map[string]any
		Expect(json.Unmarshal(data, &doc)).To(Succeed())

		Expect(doc).To(HaveKeyWithValue("success", false))
		Expect(doc).NotTo(HaveKey("data"))
	})
})
