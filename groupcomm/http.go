package groupcomm

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

type httpErr struct {
	Err string `json:"error"`
}

type httpHandler struct {
	logger log.Logger
}

type operatorSummary struct {
	Group    string         `json:"group"`
	Operator string         `json:"operator"`
	Type     string         `json:"type"`
	Parent   string         `json:"parent,omitempty"`
	Children []string       `json:"children"`
	State    string         `json:"state"`
	Mailbox  map[string]int `json:"mailbox_depths"`
}

func (h *httpHandler) encodeOperator(w http.ResponseWriter, topology *OperatorTopology) error {
	return json.NewEncoder(w).Encode(operatorSummary{
		Group:    topology.Group(),
		Operator: topology.Name(),
		Type:     topology.Type().String(),
		Parent:   topology.ParentId(),
		Children: topology.ChildIds(),
		State:    topology.State(),
		Mailbox:  topology.mailboxDepths(),
	})
}

func (h *httpHandler) encodeError(e error) []byte {
	byt, err := json.Marshal(httpErr{
		Err: e.Error(),
	})
	if err != nil {
		h.logger.Error(err)
	}

	return byt
}

// MakeEndpoints starts a read-only introspection server for the
// client: group listings, per-group operator listings and per-operator
// topology state with mailbox depths.
func MakeEndpoints(host string, client *GroupCommClient, logger log.Logger) {

	r := mux.NewRouter()
	h := httpHandler{
		logger: logger,
	}

	r.HandleFunc(`/groups`, func(writer http.ResponseWriter, request *http.Request) {

		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		if err := json.NewEncoder(writer).Encode(client.order); err != nil {
			logger.Error(err)
		}

	}).Methods(http.MethodGet)

	r.HandleFunc(`/groups/{group}`, func(writer http.ResponseWriter, request *http.Request) {

		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		vars := mux.Vars(request)
		groupName, ok := vars[`group`]
		if !ok {
			logger.Error(`unknown route parameter`)
			return
		}

		group, err := client.Group(groupName)
		if err != nil {
			if _, err := writer.Write(h.encodeError(err)); err != nil {
				logger.Error(err)
			}
			return
		}

		if err := json.NewEncoder(writer).Encode(group.order); err != nil {
			logger.Error(err)
		}

	}).Methods(http.MethodGet)

	r.HandleFunc(`/groups/{group}/operators/{operator}`, func(writer http.ResponseWriter, request *http.Request) {

		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		vars := mux.Vars(request)
		groupName, ok := vars[`group`]
		if !ok {
			logger.Error(`unknown route parameter`)
			return
		}

		operatorName, ok := vars[`operator`]
		if !ok {
			logger.Error(`unknown route parameter`)
			return
		}

		group, err := client.Group(groupName)
		if err != nil {
			if _, err := writer.Write(h.encodeError(err)); err != nil {
				logger.Error(err)
			}
			return
		}

		topology, err := group.Operator(operatorName)
		if err != nil {
			if _, err := writer.Write(h.encodeError(errors.WithPrevious(err, `operator does not exist`))); err != nil {
				logger.Error(err)
			}
			return
		}

		if err := h.encodeOperator(writer, topology); err != nil {
			logger.Error(err)
		}

	}).Methods(http.MethodGet)

	go func() {
		err := http.ListenAndServe(host, handlers.CORS()(r))
		if err != nil {
			logger.Error(`group-comm.Http`,
				fmt.Sprintf(`Cannot start web server : %+v`, err))
		}
	}()

	logger.Info(fmt.Sprintf(`Http server started on %s`, host))

}
