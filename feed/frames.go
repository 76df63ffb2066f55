/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Outbound frame construction. The core produces immutable JSON text frames;
// how they are framed onto a connection is the subscriber transport's
// concern.
package feed

// BatchFrame is the periodic coalesced message on the batched channel.
type BatchFrame struct {
	Count  int     `json:"count"`
	Orders []Order `json:"orders"`
}

// MarshalInstantFrame builds the one-per-update instant channel frame: the
// post-update Order as a JSON object.
func MarshalInstantFrame(o Order) ([]byte, error) {
	return json.Marshal(o)
}

// MarshalBatchFrame builds the batched channel frame, orders in admission
// order.
func MarshalBatchFrame(orders []Order) ([]byte, error) {
	return json.Marshal(BatchFrame{Count: len(orders), Orders: orders})
}
