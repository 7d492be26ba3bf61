// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

//go:build integration

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func call(method, path string, body any, token string) (int, []byte) {
	GinkgoHelper()
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.api.URL+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.api.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, raw
}

func register(username, password string) string {
	GinkgoHelper()
	status, _ := call(http.MethodPost, "/public/signup", map[string]string{"username": username, "password": password}, "")
	Expect(status).To(Equal(http.StatusCreated))
	status, raw := call(http.MethodPost, "/public/login", map[string]string{"username": username, "password": password}, "")
	Expect(status).To(Equal(http.StatusOK))
	var tokens map[string]string
	Expect(json.Unmarshal(raw, &tokens)).To(Succeed())
	return tokens["jwt"]
}

func createEntry(token, title, content string) entryJSON {
	GinkgoHelper()
	status, raw := call(http.MethodPost, "/journal", map[string]string{"title": title, "content": content}, token)
	Expect(status).To(Equal(http.StatusCreated), string(raw))
	var e entryJSON
	Expect(json.Unmarshal(raw, &e)).To(Succeed())
	return e
}

func countRows(ctx context.Context, table string) int {
	GinkgoHelper()
	var n int
	Expect(env.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n)).To(Succeed())
	return n
}

var _ = Describe("Journal API over PostgreSQL", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		env.worker.Wait()
		truncateAll(ctx, env.pool)
	})

	Describe("Registration", func() {
		It("admits exactly one of many concurrent signups for a username", func() {
			const attempts = 8
			statuses := make([]int, attempts)
			var wg sync.WaitGroup
			for i := range attempts {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i], _ = call(http.MethodPost, "/public/signup",
						map[string]string{"username": "racer", "password": "pw"}, "")
				}()
			}
			wg.Wait()

			Expect(statuses).To(ContainElement(http.StatusCreated))
			created := 0
			for _, s := range statuses {
				if s == http.StatusCreated {
					created++
				} else {
					Expect(s).To(Equal(http.StatusConflict))
				}
			}
			Expect(created).To(Equal(1))
			Expect(countRows(ctx, "users")).To(Equal(1))
		})

		It("rejects unknown users and wrong passwords identically", func() {
			register("alice", "pw1")
			wrongStatus, wrongBody := call(http.MethodPost, "/public/login", map[string]string{"username": "alice", "password": "bad"}, "")
			unknownStatus, unknownBody := call(http.MethodPost, "/public/login", map[string]string{"username": "nobody", "password": "bad"}, "")

			Expect(wrongStatus).To(Equal(http.StatusUnauthorized))
			Expect(unknownStatus).To(Equal(http.StatusUnauthorized))
			Expect(wrongBody).To(MatchJSON(unknownBody))
		})
	})

	Describe("Entries", func() {
		var alice string

		BeforeEach(func() {
			alice = register("alice", "pw1")
		})

		It("attaches synthesized audio after create", func() {
			e := createEntry(alice, "Day 1", "sunny")

			Eventually(func() []byte {
				status, raw := call(http.MethodGet, "/journal/id/"+e.ID+"/audio", nil, alice)
				if status != http.StatusOK {
					return nil
				}
				return raw
			}).WithTimeout(10 * time.Second).WithPolling(50 * time.Millisecond).Should(Equal(stubAudio))
		})

		It("regenerates audio after the text changes", func() {
			e := createEntry(alice, "Day 1", "sunny")
			env.worker.Wait()

			status, raw := call(http.MethodPut, "/journal/id/"+e.ID, map[string]string{"content": "rainy"}, alice)
			Expect(status).To(Equal(http.StatusOK), string(raw))

			Eventually(func() bool {
				_, raw := call(http.MethodGet, "/journal/id/"+e.ID, nil, alice)
				var got entryJSON
				Expect(json.Unmarshal(raw, &got)).To(Succeed())
				return got.Content == "rainy" && got.HasAudio
			}).WithTimeout(10 * time.Second).WithPolling(50 * time.Millisecond).Should(BeTrue())
		})

		It("lists entries in creation order", func() {
			for _, title := range []string{"one", "two", "three"} {
				createEntry(alice, title, "")
			}
			status, raw := call(http.MethodGet, "/journal", nil, alice)
			Expect(status).To(Equal(http.StatusOK))

			var list []entryJSON
			Expect(json.Unmarshal(raw, &list)).To(Succeed())
			titles := make([]string, len(list))
			for i, e := range list {
				titles[i] = e.Title
			}
			Expect(titles).To(Equal([]string{"one", "two", "three"}))
		})

		It("hides entries from other users", func() {
			e := createEntry(alice, "private", "")
			bob := register("bob", "pw2")

			status, _ := call(http.MethodGet, "/journal/id/"+e.ID, nil, bob)
			Expect(status).To(Equal(http.StatusNotFound))
			status, _ = call(http.MethodDelete, "/journal/id/"+e.ID, nil, bob)
			Expect(status).To(Equal(http.StatusNotFound))
			status, _ = call(http.MethodGet, "/journal/id/"+e.ID, nil, alice)
			Expect(status).To(Equal(http.StatusOK))
		})

		It("removes the entry row and its index reference on delete", func() {
			e := createEntry(alice, "short lived", "")
			env.worker.Wait()

			status, _ := call(http.MethodDelete, "/journal/id/"+e.ID, nil, alice)
			Expect(status).To(Equal(http.StatusNoContent))
			Expect(countRows(ctx, "entries")).To(BeZero())
			Expect(countRows(ctx, "user_entries")).To(BeZero())
		})
	})

	Describe("Account deletion", func() {
		It("cascades to every owned entry and leaves others alone", func() {
			alice := register("alice", "pw1")
			bob := register("bob", "pw2")
			createEntry(alice, "a1", "")
			createEntry(alice, "a2", "")
			createEntry(bob, "b1", "")
			env.worker.Wait()

			status, _ := call(http.MethodDelete, "/user", nil, alice)
			Expect(status).To(Equal(http.StatusNoContent))

			Expect(countRows(ctx, "users")).To(Equal(1))
			Expect(countRows(ctx, "entries")).To(Equal(1))

			status, _ = call(http.MethodGet, "/journal", nil, alice)
			Expect(status).To(Equal(http.StatusUnauthorized))
			status, _ = call(http.MethodGet, "/journal", nil, bob)
			Expect(status).To(Equal(http.StatusOK))
		})
	})
})
