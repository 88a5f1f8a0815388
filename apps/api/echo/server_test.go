package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/notify"
	pushsvc "github.com/trezcool/gradebook/services/push"
	inmemdb "github.com/trezcool/gradebook/storage/database/inmem"
	testutil "github.com/trezcool/gradebook/tests"
)

const gradesCSV = "Student Number,First Name,Last Name,Quiz1,Quiz2\n" +
	",,,50,100\n" +
	"S1,Ada,Lovelace,40,90\n" +
	"S2,Alan,Turing,25,50\n"

type testApp struct {
	t         *testing.T
	server    *Server
	store     *inmemdb.Store
	debouncer *notify.Debouncer
	push      *pushsvc.ConsoleSender
	notes     notify.Repository
	teacherID string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	conf := testutil.NewTestConfig()
	conf.Notify.DebounceWindow = time.Hour // flushed explicitly
	logger := testutil.NewLogger()

	db := inmemdb.Open()
	store := inmemdb.NewStore(db)
	notes := inmemdb.NewNotificationRepository(db)
	push := pushsvc.NewConsoleSender(logger)
	dispatcher := notify.NewConfiguredDispatcher(conf, batch.NewRecipientResolver(store), notes, push, nil, logger)
	debouncer := notify.NewDebouncer(conf.Notify.DebounceWindow, dispatcher.Dispatch, logger)
	t.Cleanup(debouncer.Stop)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	teacher := testutil.CreateTeacher(t, store.Users(), "Grace", "Hopper", "grace@school.test")
	svc := batch.NewService(conf, store, debouncer, logger)
	return &testApp{
		t:         t,
		server:    NewServer(conf, logger, svc, notes, validate, translator),
		store:     store,
		debouncer: debouncer,
		push:      push,
		notes:     notes,
		teacherID: teacher.ID,
	}
}

func (a *testApp) do(req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	a.t.Helper()
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(rec.Body.String(), "{") {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func (a *testApp) doJSON(method, target string, payload interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *testApp) upload(classID, filename, content, mode string) (*httptest.ResponseRecorder, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if mode != "" {
		require.NoError(a.t, w.WriteField("mode", mode))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(a.t, err)
		_, err = part.Write([]byte(content))
		require.NoError(a.t, err)
	}
	require.NoError(a.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/classes/"+classID+"/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return a.do(req)
}

func (a *testApp) createClass(scheme string) string {
	a.t.Helper()
	rec, body := a.doJSON(http.MethodPost, "/v1/classes", echoMap{"name": "Physics", "teacher_id": a.teacherID, "grading_scheme": scheme})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["id"].(string)
}

type echoMap = map[string]interface{}

func TestHome(t *testing.T) {
	app := newTestApp(t)
	rec, _ := app.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Gradebook API!", rec.Body.String())
}

func TestCreateClass(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name     string
		payload  echoMap
		wantCode int
		wantBody echoMap
	}{
		{
			name:     "missing fields",
			payload:  echoMap{},
			wantCode: http.StatusBadRequest,
			wantBody: echoMap{"name": "this field is required", "teacher_id": "this field is required"},
		},
		{
			name:     "blank name",
			payload:  echoMap{"name": "  ", "teacher_id": app.teacherID},
			wantCode: http.StatusBadRequest,
			wantBody: echoMap{"name": "this field cannot be blank"},
		},
		{
			name:     "unknown teacher",
			payload:  echoMap{"name": "Physics", "teacher_id": "2b1c4b2e-5f0a-4c52-9a43-6a0b7f0e9d11"},
			wantCode: http.StatusNotFound,
			wantBody: echoMap{"error": "user not found"},
		},
		{
			name:     "bad scheme",
			payload:  echoMap{"name": "Physics", "teacher_id": app.teacherID, "grading_scheme": "Quiz1"},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "created",
			payload:  echoMap{"name": "Physics", "teacher_id": app.teacherID, "grading_scheme": "Quiz1=100%"},
			wantCode: http.StatusCreated,
			wantBody: echoMap{"name": "Physics", "grading_scheme": "Quiz1=100%"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := app.doJSON(http.MethodPost, "/v1/classes", tc.payload)
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			for k, v := range tc.wantBody {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}

func TestUploadAndGrades(t *testing.T) {
	app := newTestApp(t)
	classID := app.createClass("Quiz1=40%, Quiz2=60%")

	rec, body := app.upload(classID, "grades.csv", gradesCSV, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batchID := body["id"].(string)
	assert.Len(t, body["student_ids"], 2)
	assert.Empty(t, body["visible_assessments"])

	t.Run("grade", func(t *testing.T) {
		rec, body := app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/students/S1/grade", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 86, body["grade"], 1e-9)

		rec, _ = app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/students/S404/grade", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("average and report", func(t *testing.T) {
		rec, body := app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/average", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 68, body["average"], 1e-9)

		rec, body = app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/report", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, batchID, body["batch_id"])
	})

	t.Run("class batch", func(t *testing.T) {
		rec, body := app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/batch", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, batchID, body["id"])
	})

	t.Run("violations", func(t *testing.T) {
		rec, body := app.upload(classID, "grades.csv", strings.Replace(gradesCSV, "S1,Ada,Lovelace,40", "S1,Ada,Lovelace,55", 1), "merge")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		violations := body["violations"].([]interface{})
		require.Len(t, violations, 1)
		v := violations[0].(map[string]interface{})
		assert.Equal(t, float64(3), v["row"])
		assert.Equal(t, "Quiz1", v["assessment"])
	})

	t.Run("bad mode", func(t *testing.T) {
		rec, body := app.upload(classID, "grades.csv", gradesCSV, "append")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "mode must be one of merge or replace", body["mode"])
	})

	t.Run("missing file", func(t *testing.T) {
		rec, body := app.upload(classID, "", "", "merge")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, body["file"])
	})

	t.Run("unreadable workbook", func(t *testing.T) {
		rec, _ := app.upload(classID, "grades.xlsx", "not a zip", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reconcile grid", func(t *testing.T) {
		rec, body := app.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/reconcile", echoMap{
			"mode": "replace",
			"rows": [][]interface{}{
				{"Student Number", "Name", "Quiz1", "Quiz2"},
				{"", "", 50, 100},
				{"S3", "Edsger Dijkstra", 50, 100},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, body["student_ids"], 1)

		rec, body = app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/average", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 100, body["average"], 1e-9)
	})

	t.Run("delete", func(t *testing.T) {
		rec, _ := app.doJSON(http.MethodDelete, "/v1/batches/"+batchID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec, _ = app.doJSON(http.MethodGet, "/v1/batches/"+batchID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestVisibilityAndNotifications(t *testing.T) {
	app := newTestApp(t)
	classID := app.createClass("Quiz1=100%")
	rec, body := app.upload(classID, "grades.csv", gradesCSV, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batchID := body["id"].(string)

	rec, body = app.doJSON(http.MethodPut, "/v1/batches/"+batchID+"/visibility", echoMap{"assessments": []string{"quiz1"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, echoMap{"quiz1": "Quiz1"}, body["suggestions"])

	rec, body = app.doJSON(http.MethodPut, "/v1/batches/"+batchID+"/visibility", echoMap{"assessments": []string{"Quiz1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"Quiz1"}, body["visible_assessments"])
	assert.True(t, app.debouncer.Pending(notify.Key{BatchID: batchID, Assessment: "Quiz1"}))

	rec, body = app.doJSON(http.MethodGet, "/v1/classes/"+classID+"/students/S1/grades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40", body["Quiz1"])
	assert.NotContains(t, body, "Quiz2")

	rec, body = app.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/notifications/Quiz1/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["flushed"])

	s1, err := app.store.Users().FindStudentByNumber(context.Background(), "S1")
	require.NoError(t, err)
	rec, _ = app.doJSON(http.MethodGet, "/v1/users/"+s1.ID+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notes []notify.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindAdd, notes[0].Kind)
	assert.Equal(t, "Quiz1 grades of Physics are now visible.", notes[0].Body)

	rec, _ = app.doJSON(http.MethodGet, "/v1/users/"+s1.ID+"/notifications?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = app.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/visibility/Quiz2/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["visible"])

	rec, _ = app.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/notifications", echoMap{"assessment": "Quiz2", "kind": "hide"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = app.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/notifications", echoMap{"assessment": "Quiz2", "kind": "remove"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// toggled on then scheduled off within the window: nothing to deliver
	assert.Equal(t, 1, app.debouncer.FlushAll())
	notes, err = app.notes.ListNotifications(context.Background(), s1.ID, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Empty(t, app.push.SentMessages(), "no student registered a device")

	rec, body = app.doJSON(http.MethodPut, "/v1/batches/"+batchID+"/maxima", echoMap{"maxima": echoMap{"Quiz1": 30}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, body["violations"], 1)
}
